// Package protocol owns the tracker's line protocol: one self-closing XML
// tag per line, attributes in wire order.
//
// Ownership boundary:
// - tag parsing (Parse) and rendering (Message.String)
// - command text for the SET/GET surface
// - message classification (calibration result, calibration row, record)
//
// Line reassembly lives in protocol/frame.
package protocol
