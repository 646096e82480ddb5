package config

// configSchema validates the YAML config after conversion to JSON.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": ["object", "null"],
  "additionalProperties": false,
  "properties": {
    "output": {
      "type": "string",
      "enum": ["console", "json", "tap"]
    },
    "parallel": {
      "type": "boolean"
    },
    "concurrency": {
      "type": "integer",
      "minimum": 1
    },
    "bail": {
      "type": "boolean"
    },
    "noColor": {
      "type": "boolean"
    },
    "quiet": {
      "type": "boolean"
    },
    "rate": {
      "type": "number",
      "minimum": 0
    },
    "historyPath": {
      "type": "string"
    },
    "watchDirs": {
      "type": "array",
      "items": {
        "type": "string"
      }
    }
  }
}`
