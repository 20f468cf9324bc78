//go:build !linux

package diag

func hostInfo() section { return nil }
