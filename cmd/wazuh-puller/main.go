package main

import "github.com/oshokin/wazuh-puller/cmd/wazuh-puller/cmd"

func main() {
	cmd.Execute()
}
