// Package files provides file system discovery and housekeeping for the
// linkage pipeline.
//
// Discovery lists candidate contextual files by extension and keys them by
// the 4-digit year embedded in each file name. Manager owns a working
// directory such as the temp lag directory, listing and removing files by
// name prefix.
//
// Example usage:
//
//	discovery := files.NewDiscovery("")
//	found, err := discovery.FindByExtensions("/data/heat", []string{".parquet"})
//	byYear, err := files.ByYear(files.FilterByName(found, "heat_index"))
package files
