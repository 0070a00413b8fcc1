// Package config loads the operator's declared desired state for a host.
//
// # Overview
//
// A configuration is one file naming the platform main domain, the admin
// password, optional extra domains, and ordered lists of users and apps.
// The package supports two formats, chosen by file extension:
//
//   - YAML (.yml/.yaml): decoded with gopkg.in/yaml.v3, unknown keys
//     rejected.
//   - Starlark (.star): evaluated sandboxed (no filesystem, no network,
//     print suppressed, bounded time); the script's exported globals form
//     the configuration document, which lets operators generate user and
//     app lists programmatically.
//
// Either way the decoded document is validated against an embedded CUE
// schema (shape and scalar types, with per-path error locations) and then
// against struct tags via go-playground/validator. The result converts to
// engine.RawConfig with Config.ToRawConfig; domain rules (declared-domain
// references, placement uniqueness, DNS syntax) are the engine normalizer's
// job, not this package's.
//
// # Usage
//
//	parser := config.NewParser()
//	cfg, err := parser.Load(ctx, "host.yml")
//	if err != nil {
//	    var loadErr *config.LoadError
//	    if errors.As(err, &loadErr) {
//	        // loadErr.Issues lists every violation with file/path info.
//	    }
//	    return err
//	}
//	desired, err := engine.NewNormalizer().Normalize(cfg.ToRawConfig())
//
// # Secrets
//
// admin_password and users[].pass decode into engine.Secret: they render
// redacted through fmt, JSON, and YAML, so a ParsedConfig or LoadError can
// be printed or serialized without leaking credentials.
package config
