package server

import (
	"fmt"
	"os"
)

const gatewayYAMLTemplate = `endpoint: /graphql
service_name: federation-gateway
port: 8080
timeout_duration: 5s
pollingInterval: 30s
retryServicesCount: 10
retryServicesInterval: 3000ms
opentelemetry:
  tracing:
    enable: false
services: []
`

// Init scaffolds a starter gateway.yaml in the current directory so a new
// project has something to edit before running "federation-gateway serve".
func Init() {
	if _, err := os.Stat("gateway.yaml"); err == nil {
		fmt.Println("gateway.yaml already exists, skipping")
		return
	}

	if err := os.WriteFile("gateway.yaml", []byte(gatewayYAMLTemplate), 0o644); err != nil {
		fmt.Printf("failed to write gateway.yaml: %v\n", err)
		return
	}

	fmt.Println("wrote gateway.yaml")
}
