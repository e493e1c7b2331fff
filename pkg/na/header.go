package na

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
)

// RequestHeaderSize is the fixed on-wire size of the request header: four
// 32-bit little-endian fields.
const RequestHeaderSize = 16

// requestHeaderMagic identifies a well-formed header and lets a reader
// detect a cross-endian sender: if the bytes read back as the byte-swapped
// form of this value, every field in the header must be byte-swapped
// in place before use.
const requestHeaderMagic uint32 = 0x0F106688

// requestHeader is the inline source descriptor prepended to unexpected
// sends when the destination provider cannot report source natively
// (everything except psm2, per §4.1's native-source-reporting note).
type requestHeader struct {
	Feats uint32
	Magic uint32
	IP    uint32
	Port  uint32
}

// byteSwapMagic is requestHeaderMagic with its four bytes reversed; seeing
// this value where Magic should be means every field needs an in-place
// swap.
func byteSwapMagic() uint32 {
	return swap32(requestHeaderMagic)
}

func swap32(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v<<24)&0xff000000
}

// encodeRequestHeader writes a header for (ip, port) into the leading
// RequestHeaderSize bytes of buf. buf must be at least RequestHeaderSize
// bytes.
func encodeRequestHeader(buf []byte, feats uint32, ip uint32, port uint16) {
	binary.LittleEndian.PutUint32(buf[0:4], feats)
	binary.LittleEndian.PutUint32(buf[4:8], requestHeaderMagic)
	binary.LittleEndian.PutUint32(buf[8:12], ip)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(port))
}

// decodeRequestHeader parses a header out of the leading RequestHeaderSize
// bytes of buf, byte-swapping all four fields in place if the magic is
// observed byte-swapped. Returns an *invalid-parameter* error if buf is too
// short, and *protocol* if neither orientation of the magic matches.
func decodeRequestHeader(buf []byte) (requestHeader, error) {
	if len(buf) < RequestHeaderSize {
		return requestHeader{}, newError(StatusInvalidParam, "request header needs %d bytes, got %d", RequestHeaderSize, len(buf))
	}

	h := requestHeader{
		Feats: binary.LittleEndian.Uint32(buf[0:4]),
		Magic: binary.LittleEndian.Uint32(buf[4:8]),
		IP:    binary.LittleEndian.Uint32(buf[8:12]),
		Port:  binary.LittleEndian.Uint32(buf[12:16]),
	}

	switch h.Magic {
	case requestHeaderMagic:
		return h, nil
	case byteSwapMagic():
		h.Feats = swap32(h.Feats)
		h.Magic = swap32(h.Magic)
		h.IP = swap32(h.IP)
		h.Port = swap32(h.Port)
		return h, nil
	default:
		return requestHeader{}, newError(StatusProtocol, "malformed request header: bad magic 0x%x", h.Magic)
	}
}

// parseHostPort turns a "host[:service]" config string into an IPv4
// big-endian uint32 and a numeric port, the form stamped into request
// headers and cache keys.
func parseHostPort(hostPort string) (ip uint32, port uint16, err error) {
	host := hostPort
	var svc string
	if idx := strings.LastIndex(hostPort, ":"); idx >= 0 {
		host = hostPort[:idx]
		svc = hostPort[idx+1:]
	}

	addr := net.ParseIP(host)
	if addr == nil {
		return 0, 0, newError(StatusInvalidParam, "not a valid IPv4 address: %q", host)
	}
	v4 := addr.To4()
	if v4 == nil {
		return 0, 0, newError(StatusInvalidParam, "not an IPv4 address: %q", host)
	}
	ip = binary.BigEndian.Uint32(v4)

	if svc != "" {
		p, perr := strconv.ParseUint(svc, 10, 16)
		if perr != nil {
			return 0, 0, wrapError(StatusInvalidParam, perr, "invalid service/port %q", svc)
		}
		port = uint16(p)
	}
	return ip, port, nil
}
