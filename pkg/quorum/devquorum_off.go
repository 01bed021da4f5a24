//go:build !torvus_devquorum

package quorum

const devQuorumBuild = false
