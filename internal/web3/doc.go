// Package web3 houses blockchain connectivity utilities: the chain client
// abstraction used by token operations and the strategy runner, and the
// multi-chain endpoint configuration helpers. Any backend that can estimate
// gas, sign with the process account and broadcast a transaction satisfies the
// Client contract, so EVM networks other than the default are substitutable.
package web3
