// Package pagination implements keyset (cursor) pagination over a
// (sort column, id) ordering.
//
// Offset pagination costs O(offset) per page on large tables. Instead each
// page ends with an opaque cursor holding the last row's sort value and id,
// and the next query seeks strictly past it:
//
//	(col > v) OR (col = v AND id > id0)   -- ascending
//	(col < v) OR (col = v AND id < id0)   -- descending
//
// The predicate uses the same (col, id) index as the ORDER BY.
//
// Example usage:
//
//	q, err := pagination.NewQuery(sortBy, sortOrder, limit, cursor)
//	if err != nil {
//		return err // 400
//	}
//
//	var rows []Product
//	err = q.Apply(db.NewSelect().Model(&rows)).Scan(ctx)
//	page, err := pagination.Trim(rows, q)
//
// Cursors:
//   - Are base64url JSON and carry the sortBy and sortOrder they were minted under
//   - Decode into DateCursor, NumericCursor or TextCursor depending on the sort
//   - Are rejected with ErrCursorMismatch when replayed under another sort
//
// Queries fetch Limit+1 rows; the extra row only signals HasMore.
package pagination
