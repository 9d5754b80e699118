package main

import (
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	soHold "so_arm_hold"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: soHold.HoldControllerModel},
		resource.APIModel{API: discovery.API, Model: soHold.SO101HoldDiscoveryModel},
	)
}
