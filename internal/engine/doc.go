// Package engine wires every chronicle component from a config.Config.
//
// Wiring order matters: the replay context is shared by the entity store,
// the event store, the replay service and the gateway, and the snapshot
// service must exist before the event store that consults it.
//
//	eng, err := engine.Open(cfg, engine.WithRegistrar(customer.Register))
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
// Open refuses to start when any registered entity type has a gap in its
// migration chain.
package engine
