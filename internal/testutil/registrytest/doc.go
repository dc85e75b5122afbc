// SPDX-License-Identifier: MPL-2.0

// Package registrytest provides an in-memory registry.Client for tests:
// scripted packages, deterministic tarballs, failure injection, and
// call counting.
//
// Usage:
//
//	reg := registrytest.New()
//	reg.AddVersion("terrain-tools", "2.1.0",
//	    registrytest.WithEngines("5.0 - 5.4"),
//	    registrytest.WithDependency("water-sim", "^1.0.0"))
//
//	data := registrytest.TarGz(map[string]string{
//	    "terrain-tools/terrain-tools.plugin": "{}",
//	})
//	reg.AddTarball("terrain-tools", "2.1.0", data)
//	reg.SignVersion("terrain-tools", "2.1.0", priv)
//
//	reg.FailWith(registrytest.OpTarball, "terrain-tools", err, 2)
package registrytest
