package tablebase

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/tablecache/errors"
)

func invalidFEN(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidData, fmt.Sprintf(format, args...)),
		"tablebase", "NormalizeFEN", "validate fen")
}

// NormalizeFEN validates fen and returns it in canonical six-field form.
// Missing clocks default to "0 1". Positions with more than MaxPieces pieces
// are rejected since the tablebase cannot answer them.
func NormalizeFEN(fen string) (string, error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 || len(fields) > 6 {
		return "", invalidFEN("expected 4 to 6 fields, got %d", len(fields))
	}

	pieces, err := validatePlacement(fields[0])
	if err != nil {
		return "", err
	}
	if pieces > MaxPieces {
		return "", invalidFEN("too many pieces for tablebase (%d > %d)", pieces, MaxPieces)
	}

	if fields[1] != "w" && fields[1] != "b" {
		return "", invalidFEN("side to move must be w or b, got %q", fields[1])
	}

	if fields[2] != "-" {
		for _, r := range fields[2] {
			if !strings.ContainsRune("KQkq", r) {
				return "", invalidFEN("invalid castling rights %q", fields[2])
			}
		}
	}

	if ep := fields[3]; ep != "-" {
		if len(ep) != 2 || ep[0] < 'a' || ep[0] > 'h' || (ep[1] != '3' && ep[1] != '6') {
			return "", invalidFEN("invalid en passant square %q", ep)
		}
	}

	switch len(fields) {
	case 4:
		fields = append(fields, "0", "1")
	case 5:
		fields = append(fields, "1")
	}

	halfmove, err := strconv.Atoi(fields[4])
	if err != nil || halfmove < 0 {
		return "", invalidFEN("invalid halfmove clock %q", fields[4])
	}
	fullmove, err := strconv.Atoi(fields[5])
	if err != nil || fullmove < 1 {
		return "", invalidFEN("invalid fullmove number %q", fields[5])
	}

	return strings.Join(fields, " "), nil
}

// validatePlacement checks the board field and returns the piece count.
func validatePlacement(placement string) (int, error) {
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return 0, invalidFEN("expected 8 ranks, got %d", len(ranks))
	}

	pieces := 0
	whiteKings, blackKings := 0, 0
	for i, rank := range ranks {
		squares := 0
		for _, r := range rank {
			switch {
			case r >= '1' && r <= '8':
				squares += int(r - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", r):
				squares++
				pieces++
				if r == 'K' {
					whiteKings++
				} else if r == 'k' {
					blackKings++
				}
			default:
				return 0, invalidFEN("invalid character %q in rank %d", r, 8-i)
			}
		}
		if squares != 8 {
			return 0, invalidFEN("rank %d has %d squares", 8-i, squares)
		}
	}

	if whiteKings != 1 || blackKings != 1 {
		return 0, invalidFEN("each side needs exactly one king")
	}

	return pieces, nil
}
