// Package mochi downloads chunked application builds and rebuilds their
// files on disk.
//
// A build is described by a manifest listing every output file as a
// sequence of parts cut from content-addressed chunks. The Client fetches
// the manifest from one of several distribution points, downloads every
// referenced chunk into a per-app cache, and reassembles the files under
// the asset directory. Finished trees can be zipped and published to an
// OCI registry.
//
// Basic usage:
//
//	c, err := mochi.NewClient(mochi.WithDataDir("/var/lib/mochi"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	m, err := c.FetchManifest(ctx, points)
//	if err != nil {
//	    return err
//	}
//	res, err := c.Sync(ctx, m)
//	if err != nil {
//	    return err
//	}
//	if err := res.Err(); err != nil {
//	    log.Printf("%d chunks and %d files failed", res.Download.Failed(), res.Reassemble.Failed())
//	}
//
// Each file is reassembled independently: one bad chunk fails only the
// files that reference it.
package mochi
