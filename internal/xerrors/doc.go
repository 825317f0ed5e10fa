// Package xerrors adds call-site information to errors without changing
// their messages. New and WithStack capture a full stack, Wrap records only
// the wrapping frame. The logger reads both back through StackOf and
// FrameOf to fill error_links and stack fields.
package xerrors
