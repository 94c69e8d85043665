// Package config provides configuration management for tributary.
//
// # Loading
//
// Load layers three sources over Default():
//
//   - an optional YAML file (tributary.yaml in ., $HOME/.tributary or /etc/tributary)
//   - environment variables prefixed with TRIBUTARY_, dots replaced by
//     underscores (TRIBUTARY_SYNC_LOOKBACK=720h)
//   - DATABASE_URL, which fills store.url
//
// # Example file
//
//	store:
//	  driver: postgres
//	  url: ${DATABASE_URL}
//	credentials:
//	  backend: file
//	  path: ./credentials.yaml
//	sync:
//	  lookback: 720h
//	  max_records: 10000
//	connectors:
//	  jira:
//	    page_size: 50
//
// LoadYAML is the lower-level loader used for documents that are not the
// process configuration, such as the file credential store. It substitutes
// ${VAR} references before decoding.
package config
