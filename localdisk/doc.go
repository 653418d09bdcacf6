// Package localdisk implements shuffle.ExecutorComponents on top of an executor's local disks.
// Each map output is committed as a data file holding every reduce partition back-to-back,
// alongside an index file of offsets into it, and is read back one block at a time.
package localdisk
