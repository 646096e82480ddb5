// Package config loads the tapestry CLI configuration.
//
// Configuration is discovered by walking upward from the working directory
// for a .tapestry.yaml or tapestry.yaml file, validated against an embedded
// JSON schema, and merged under CLI flags: flags win over file values, file
// values win over defaults.
package config
