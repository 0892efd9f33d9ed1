// Package cli implements the minerctl command line.
//
// Commands:
//
//	minerctl serve [--start]             run the supervisor, API and outputs
//	minerctl logs [-f] [--bytes N]       print or follow the miner's rolling log
//	minerctl tuning profiles             list tuning profiles
//	minerctl tuning test [profile]       diagnose the tuning setup
//	minerctl tuning apply <profile>      apply a profile now
//	minerctl parse <file>                replay a captured log through the parser
//	minerctl gpus                        print the GPU probe result
//	minerctl token [--role --ttl]        mint an API bearer token
//	minerctl version [--short]           print build information
//
// Every command reads the configuration from --config, MINERCTL_CONFIG or
// ./config.yaml, falling back to built-in defaults when the default file is
// absent.
package cli
