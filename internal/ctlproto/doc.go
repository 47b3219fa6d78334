// Package ctlproto implements the administrative control protocol
// spoken between mgroupd and mgroupctl: newline-delimited JSON
// request/response pairs over a Unix domain socket. One request per
// line, one response per line — the deliberate substitute for the
// generated connect-go/protobuf stack the BFD teacher used, since no
// .proto-derived stubs exist in the retrieval pack to ground a
// hand-authored protoreflect message set against (see DESIGN.md).
package ctlproto
