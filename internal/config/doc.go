// Package config defines the settings of the puller and loads them from
// defaults, an optional YAML file, environment variables and CLI flags.
//
// The legacy bare variable names (API_URL, API_KEY, RULES_PATH, ...) are
// honoured alongside their WAZUH_PULLER_ prefixed forms.
package config
