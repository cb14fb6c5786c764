package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" help:"Path to configuration file" type:"path"`
	LogLevel string `help:"Log level override (debug, info, warn, error)"`

	Run     RunCmd     `cmd:"" help:"Run one simulation and write the result"`
	Serve   ServeCmd   `cmd:"" help:"Serve the simulation HTTP API"`
	Stages  StagesCmd  `cmd:"" help:"List the pipeline stages"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd executes a single simulation.
type RunCmd struct {
	Input     string `short:"i" help:"Run input JSON file ('-' for stdin)" type:"path" xor:"source"`
	Example   bool   `help:"Use the built-in example input" xor:"source"`
	Out       string `short:"o" help:"Write the result JSON to this file instead of stdout" type:"path"`
	Fixtures  string `help:"YAML file of scripted stage responses" type:"path"`
	ExportDir string `help:"Export lures, SMS lures and honeydocs to this directory" type:"path"`
	Offline   bool   `help:"Use the built-in offline generator instead of the Gemini API"`
}

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Port    int  `short:"p" help:"Listen port (overrides config)"`
	Offline bool `help:"Use the built-in offline generator instead of the Gemini API"`
}

// StagesCmd prints the stage catalog.
type StagesCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": Version,
	}
}
