package api

const registerSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["username", "email", "password"],
  "properties": {
    "username": {"type": "string", "minLength": 1, "maxLength": 64, "pattern": "^[a-zA-Z0-9_.-]+$"},
    "email": {"type": "string", "minLength": 3, "maxLength": 255, "pattern": "^[^@\\s]+@[^@\\s]+$"},
    "password": {"type": "string", "minLength": 8, "maxLength": 128}
  }
}`

const loginSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["username", "password"],
  "properties": {
    "username": {"type": "string", "minLength": 1, "maxLength": 64},
    "password": {"type": "string", "minLength": 1, "maxLength": 128}
  }
}`

// Amounts travel as decimal strings. Floats would silently lose cents.
const amountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
  }
}`
