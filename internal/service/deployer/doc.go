// Package deployer replaces the eligible files of the live rules and decoders directories
// with the contents of a FileSet.
package deployer
