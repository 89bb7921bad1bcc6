// Package snapshot creates and restores backups of files and directory trees.
//
// Each backup lives in its own timestamp-named directory under the backup
// root:
//
//	<root>/20260301T120000.000000000/
//	    a.py            byte-for-byte copy of a single file target
//	    proj.tar.gz     gzip-compressed tar of a directory target
//	    manifest.json   the BackupManifest, written last
//
// Manifests are recorded in an engine.ManifestRepository so that a backup can
// be found by id. MemoryRepository keeps them for the life of the process;
// stores.SQLiteStore keeps them across runs. Manager.Reindex rebuilds a
// catalog from the manifest.json files on disk.
//
// Every stored copy carries a blake3 digest which is checked before a restore
// touches the target.
package snapshot
