// Package format renders cursor steps.
//
// Native rendering produces typed records (Key, KeyData, Node, Name,
// Row). Encoded rendering produces one flat string per step:
//
//	key=<escaped key>&data=<escaped data>
//	key1=<k1>&key2=<k2>&data=<d>
//
// Values are percent-escaped so that '&', '=', '%', control bytes and
// non-ASCII bytes survive a round trip through Decode unchanged.
package format
