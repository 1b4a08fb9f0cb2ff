package agent

import (
	"github.com/casualjim/shuttle/internal/registry"
)

// Global holds the agents that configuration files refer to by name.
var Global = registry.New[*Agent]()

func Add(agent *Agent) {
	Global.Add(agent.Name(), agent)
}

func Get(name string) (*Agent, bool) {
	return Global.Get(name)
}

func Del(name string) {
	Global.Del(name)
}

// Names lists the registered agents.
func Names() []string {
	return Global.Names()
}
