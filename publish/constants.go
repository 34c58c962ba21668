package publish

import "pose-engine/fusion"

// Message classes; a target receives a message when its mask contains the flag.
const (
	FlagPredict = 0x1
	FlagUpdate  = 0x2
	FlagFault   = 0x4

	FlagAll = FlagPredict | FlagUpdate | FlagFault
)

const (
	poseTag  = "robopos"
	faultTag = "roboerr"

	// tag + ':' + three length digits + ','
	headerLen = 12

	// MaxLineLen is the longest line the three-digit length field can describe.
	MaxLineLen = 999
)

// FlagFor maps an estimate kind to its message class.
func FlagFor(kind fusion.EstimateKind) uint32 {
	if kind == fusion.KindUpdate {
		return FlagUpdate
	}
	return FlagPredict
}
