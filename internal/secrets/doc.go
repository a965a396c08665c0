// Package secrets supplies the content API token. The token is fetched
// from SSM Parameter Store or decrypted with KMS, cached, and dropped when
// the API ends the session so the next call fetches a fresh one.
package secrets
