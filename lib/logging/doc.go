// Package logging formats the dragonboat logger facade used by every package
// of this module (logger.GetLogger("<component>")) as
//
//	2025/01/02 15:04:05 INFO  | registry        | opened workspace:w1
//
// and sets the level of all component loggers at once.
package logging
