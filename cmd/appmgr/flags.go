package main

import (
	"os"
	"time"

	"github.com/loykin/appmgr/pkg/client"
)

const defaultTimeout = client.DefaultTimeout

// GlobalFlags holds the flags shared by the client commands
type GlobalFlags struct {
	Socket  string
	Timeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Manifest   string
}

func defaultSocket() string {
	if s := os.Getenv("APPMGR_SOCKET"); s != "" {
		return s
	}
	return client.DefaultSocket
}

func (g *GlobalFlags) client() *client.Client {
	return client.New(client.Config{Socket: g.Socket, Timeout: g.Timeout})
}
