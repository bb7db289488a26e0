package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
    ConfigPath  string
    Target      string
    CreateGroup bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("p2pdrop-node", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.StringVar(&opts.Target, "target", "", "Peer to connect to (overrides discovery.target)")
    fs.BoolVar(&opts.CreateGroup, "create-group", false, "Act as group owner instead of connecting")
    _ = fs.Parse(args)
    return opts
}
