// Package segkey builds hierarchical keys from ordered string segments.
//
// A SegKey is a static root owned by exactly one data kind (for example
// "entry" for resource entries or "variable" for collection variables).
// Joining runtime segments onto a root yields a SegKeyBuf such as
// entry/<id>/order.
//
// Collision rule:
//
//	Unrelated data kinds may share one physical table or file. They stay apart
//	because every kind owns a distinct root and roots are single segments.
//	Since scans always use SegKeyBuf.Prefix (the encoded key followed by the
//	separator byte), a scan below root "entry" can never match keys of a root
//	"entry_meta" or "entryx". Register panics on duplicate roots at process
//	start; beyond that the rule is a convention enforced by review and tests.
//
// Ordering:
//
//	The storage encoding (SegKeyBuf.Bytes) joins segments with 0x00 and escapes
//	0x00/0x01 inside segments. Byte order of encoded keys therefore equals
//	lexicographic order over segments, which is the natural ordering of every
//	backend in lib/db/engines, and all children of a key form one contiguous
//	range.
package segkey
