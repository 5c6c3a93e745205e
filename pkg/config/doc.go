// Package config loads and validates the cloudburst framework
// configuration from a YAML file.
//
// A configuration file describes one environment: where declared and
// persisted state live, how the remote state store is reached, and how
// the routing layer discovers sibling resources. Every field has a
// sensible default so a minimal file only needs an environment ID and
// the remote store URL:
//
//	environment_id: env-prod-1
//	remote_store:
//	  base_url: https://api.example.com/v1
//	  api_key: ${CLOUDBURST_API_KEY}
//
// Values of the form ${NAME} are expanded from the process environment
// before parsing. Duration fields accept Go syntax such as "30s" or
// "2m".
package config
