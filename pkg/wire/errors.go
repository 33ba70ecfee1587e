package wire

import "github.com/sanlockd/sanlockd/pkg/sanerr"

func errShort(what string) error {
	return sanerr.New("decode_"+what, sanerr.ErrLeaderRead)
}

func errChecksum(what string) error {
	switch what {
	case "dblock", "mode_block":
		return sanerr.New("decode_"+what, sanerr.ErrDBlockChecksum)
	default:
		return sanerr.New("decode_"+what, sanerr.ErrLeaderChecksum)
	}
}
