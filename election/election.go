// Package election reserves the interface surface a future peer-election /
// proof-of-storage layer will need without implementing its scoring logic:
// discovering and preferentially connecting to peers whose token view is
// most aligned with the local node's is out of scope for the consensus
// core, but the shapes it will hand results back in are not.
package election

// ConsensusCluster groups candidate signatures that mutually agree above a
// threshold, mirroring the cluster analysis a signature-based peer-election
// system performs over TokenStorageBackend.SearchSignature results.
type ConsensusCluster struct {
	// Members indexes into whatever candidate list produced this cluster.
	Members []int
	// MinAgreement is the smallest number of shared token mappings between
	// any two members of the cluster.
	MinAgreement int
	// AvgAgreement is the mean shared-mapping count across every pair in
	// the cluster.
	AvgAgreement float64
}

// RingDistance returns the length of the shorter arc between a and b on the
// 64-bit identifier ring. ring.Table does not use it: witnesses there are
// chosen by position in the sorted peer list. A peer-election layer uses
// this to rank candidate peers by ring proximity.
func RingDistance(a, b uint64) uint64 {
	var d uint64
	if a > b {
		d = a - b
	} else {
		d = b - a
	}
	if wrap := -d; wrap < d {
		return wrap
	}
	return d
}
