package main

import "os"

const defaultServerURL = "http://127.0.0.1:8080"

func dataDir() string {
	if v := os.Getenv("CLIENT_DATA_DIR"); v != "" {
		return v
	}
	return "client_data"
}

func serverURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("CLIENT_SERVER_URL"); v != "" {
		return v
	}
	return defaultServerURL
}
