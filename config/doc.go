// Package config provides unified configuration loading for the Juniper
// core: defaults first, then an optional YAML file, then JUNIPER_* env
// overrides. The context-kind idle-timeout table, decay halflife, and the
// static expert registry all live here rather than in code.
package config
