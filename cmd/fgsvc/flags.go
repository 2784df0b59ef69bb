package main

import "time"

// Flag structs decouple cobra from command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Detailed   bool // status only
}

type ServeFlags struct {
	ConfigPath string
	Color      string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
