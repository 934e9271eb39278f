// Package secrets resolves ${secret:name} references in configuration
// values.
//
// Credentials such as the JWT signing secret, the Postgres DSN and the
// Redis password can be kept out of the YAML file:
//
//	auth:
//	  jwt:
//	    secret: "${secret:jwt-signing-key}"
//
// Names are looked up in order through the environment provider
// (TOLLGATE_SECRET_JWT_SIGNING_KEY) and, when a secrets directory is
// configured, the file provider (<dir>/jwt-signing-key).
package secrets
