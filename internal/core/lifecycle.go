package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// A module moves through Configure, Provision, Validate, Start and Stop.
// Each step is optional; the App calls whichever interfaces the module
// implements.

// Configurable modules receive their section of the modules map.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules resolve defaults and look up or publish services.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their configuration without side effects.
type Validator interface {
	Validate() error
}

// Starter modules launch listeners or background loops.
type Starter interface {
	Start() error
}

// Stopper modules release resources. Stop runs in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules apply a new configuration section in place. ctx carries
// the reloaded node for the module.
type Reloader interface {
	Reload(ctx *AppContext) error
}
