package codegen

// header opens every generated file.
const header = "// Code generated by flowforge. DO NOT EDIT.\n"

// joinHelper launches every branch at once, waits for all of them to settle
// and rethrows the first failure in branch order.
const joinHelper = `async function join(tasks: Array<() => Promise<unknown>>): Promise<unknown[]> {
  const settled = await Promise.allSettled(tasks.map((task) => task()));
  for (const outcome of settled) {
    if (outcome.status === "rejected") {
      throw outcome.reason;
    }
  }
  return settled.map((outcome) => (outcome as PromiseFulfilledResult<unknown>).value);
}`

// formatHelper renders a value embedded in text the same way the
// interpreter does.
const formatHelper = `function format(value: unknown): string {
  if (value === null || value === undefined) {
    return "";
  }
  if (typeof value === "string") {
    return value;
  }
  if (Array.isArray(value)) {
    return value.map((item) => format(item)).join(", ");
  }
  if (typeof value === "object") {
    const record = value as Record<string, unknown>;
    for (const key of ["title", "name", "id", "message"]) {
      const item = record[key];
      if (item !== undefined && item !== null && item !== "") {
        return format(item);
      }
    }
    return JSON.stringify(value);
  }
  return String(value);
}`
