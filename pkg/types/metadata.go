package types

// Well-known SystemMetadata keys (spec §3).
const (
	MetaDescriptorFingerprint = "descriptor_fingerprint"
	MetaNextScanHeight        = "next_scan_height"
	MetaPlansDigest           = "plans_digest"
)
