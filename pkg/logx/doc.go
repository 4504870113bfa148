// Package logx is a small structured-logging layer over zerolog.
//
// Components hold a Logger by value. A Logger created from a Service stays
// live across Service.Apply calls, so log sinks and levels can be changed at
// runtime without re-plumbing loggers through the app.
package logx
