// Package config loads, normalizes, and validates scribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for secrets
// such as SCRIBE_LLM_API_KEY and OPENAI_API_KEY. A .env file in the working
// directory or next to the config file is loaded first so secrets can stay out
// of the TOML file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical provider names, and clear validation errors.
package config
