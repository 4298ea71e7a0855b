// Package config provides configuration loading and validation for the speech
// translation service. Values come from built-in defaults, an optional YAML
// file, a .env file and STS_* / OPENAI_* environment variables, in that order.
package config
