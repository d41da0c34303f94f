// Package commands defines the livenesscheck CLI, a headless host for the
// liveness session controller.
//
// Commands
//
//   - run    Run one liveness check against a recorded capture outcome
//   - token  Request a session token and print it
//
// # Implementation
//
// The root command reads the client configuration from the environment,
// applies flag overrides and builds the logger before any subcommand
// runs. The run command drives a session.Controller with a capture.Replay
// in place of a camera and a verifyclient.Client as both credential
// source and uploader. Status updates that a graphical host would show
// are printed to stdout.
package commands
