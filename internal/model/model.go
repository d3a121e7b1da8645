// Package model defines the entities shared by the boundary pipeline:
// filtered relations, assembled boundaries and per-relation diagnostics.
// Relations reference ways and nodes by id only; the coordinate and
// node-list caches live in the resolver result and are discarded once
// assembly is done.
package model

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Role describes how a member way contributes to an area relation.
type Role string

const (
	RoleOuter   Role = "outer"
	RoleInner   Role = "inner"
	RoleUnknown Role = ""
)

// MemberRef is a single entry of an area relation's member list.
type MemberRef struct {
	Ref  int64
	Role Role
}

// AreaRelation is the unit of work: a relation that matched the
// configured tag predicate, with its way members in document order.
type AreaRelation struct {
	ID      int64
	Tags    map[string]string
	Members []MemberRef
}

// Name returns the best display name for the relation, preferring
// name:en, then the local name tag.
func (r *AreaRelation) Name() string {
	if n := r.Tags["name:en"]; n != "" {
		return n
	}
	if n := r.Tags["name"]; n != "" {
		return n
	}
	return fmt.Sprintf("relation %d", r.ID)
}

// LocalName returns the untranslated name tag, if any.
func (r *AreaRelation) LocalName() string {
	return r.Tags["name"]
}

// ISOAlpha2 returns the ISO3166-1 alpha-2 country code tag, if any.
func (r *AreaRelation) ISOAlpha2() string {
	return r.Tags["ISO3166-1:alpha2"]
}

// ISOAlpha3 returns the ISO3166-1 alpha-3 country code tag, if any.
func (r *AreaRelation) ISOAlpha3() string {
	return r.Tags["ISO3166-1:alpha3"]
}

// DiagnosticKind classifies the non-fatal defects found while
// assembling a relation's geometry.
type DiagnosticKind string

const (
	// DiagUnresolvedMember: a member way, or one of its nodes, was
	// absent from the source stream.
	DiagUnresolvedMember DiagnosticKind = "unresolved_member"
	// DiagDegenerateRing: a chain with fewer than 3 distinct points
	// was dropped.
	DiagDegenerateRing DiagnosticKind = "degenerate_ring"
	// DiagArtificialClosure: a dangling chain was force-closed by
	// repeating its first point.
	DiagArtificialClosure DiagnosticKind = "artificial_closure"
	// DiagOrphanHole: an inner ring had no enclosing outer ring.
	DiagOrphanHole DiagnosticKind = "orphan_hole"
	// DiagNoGeometry: the relation yielded zero polygons.
	DiagNoGeometry DiagnosticKind = "no_geometry"
)

// Diagnostic records one non-fatal defect on a boundary. Ref names the
// offending way or node id when one applies.
type Diagnostic struct {
	Kind   DiagnosticKind
	Ref    int64
	Detail string
}

func (d Diagnostic) String() string {
	if d.Ref != 0 {
		if d.Detail != "" {
			return fmt.Sprintf("%s(%d): %s", d.Kind, d.Ref, d.Detail)
		}
		return fmt.Sprintf("%s(%d)", d.Kind, d.Ref)
	}
	if d.Detail != "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
	}
	return string(d.Kind)
}

// Boundary is the assembled, immutable output for one relation.
// Polygons may be empty (NoGeometry); each polygon is an outer ring
// followed by its holes, rings closed (first point equals last).
type Boundary struct {
	RelationID  int64
	Name        string
	LocalName   string
	ISOAlpha2   string
	ISOAlpha3   string
	Tags        map[string]string
	Polygons    []orb.Polygon
	Diagnostics []Diagnostic
}

// HasGeometry reports whether at least one polygon was assembled.
func (b *Boundary) HasGeometry() bool {
	return len(b.Polygons) > 0
}

// MultiPolygon returns the boundary geometry as an orb.MultiPolygon.
func (b *Boundary) MultiPolygon() orb.MultiPolygon {
	return orb.MultiPolygon(b.Polygons)
}

// Diagnose appends a diagnostic to the boundary.
func (b *Boundary) Diagnose(kind DiagnosticKind, ref int64, detail string) {
	b.Diagnostics = append(b.Diagnostics, Diagnostic{Kind: kind, Ref: ref, Detail: detail})
}

// Settlement is a populated place node located against the assembled
// boundaries during the query phase.
type Settlement struct {
	ID     int64
	Name   string
	NameEN string
	Place  string
	Point  orb.Point

	// BoundaryID is the relation id of the containing boundary,
	// or 0 when no boundary claims the point.
	BoundaryID int64
}
