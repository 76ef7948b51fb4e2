// Package token builds and executes operations against the KLIMA carbon
// credit token and its staking pool: balance queries, transfers, staking and
// unstaking. Amounts cross the package boundary as human-readable decimal
// strings and are converted exactly to 18-decimal base units before encoding.
// Every write operation returns a structured result; no lower-layer fault
// escapes past the package boundary.
package token
