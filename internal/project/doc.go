// Package project reads, classifies and moves project files.
//
// Projects are plain-text files kept in one directory per status under a
// projects root:
//
//	<root>/WTM Projects/           active
//	<root>/WTM Projects Waiting/   waiting
//	<root>/WTM Projects Someday/   someday
//	<root>/WTM Projects Archive/   archive
//
// Only visible *.txt files are projects. Moving a project between statuses
// moves its file; the store row is updated by the caller.
package project
