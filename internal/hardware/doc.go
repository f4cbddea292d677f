// Package hardware exposes the local machine's sensors as a refreshable tree.
//
// A Source groups sensors into units (a CPU package, a memory bank, a NIC,
// a disk) and units into categories that can be switched on or off:
//
//	src, err := hardware.Open(ctx, hardware.Categories{CPU: true, Memory: true}, logger)
//	if err != nil {
//	    return err
//	}
//	defer src.Release()
//
//	if err := src.Refresh(ctx); err != nil {
//	    logger.Warn("refresh incomplete", "error", err)
//	}
//	for _, unit := range src.Hardware() {
//	    for _, s := range unit.Sensors {
//	        fmt.Println(unit.Name, s.Name, s.Kind, s.ID)
//	    }
//	}
//
// Host is the gopsutil-backed implementation. Sensor kinds and raw
// identifiers follow the "/{hardware}/{index}/{kind}/{n}" layout so that
// state topics derived from them stay stable between runs.
package hardware
