// Package cli provides the filerelay command-line client.
//
// Commands:
//
//	send <recipient> <file>         relay a file live to an online user
//	receive [dir]                   wait for one incoming file and save it
//	upload <file>                   store a file encrypted on the server
//	record <recipient> <handle> <file>  record a stored file as sent to recipient
//	download <transferId> <file>    fetch a stored transfer
//
// When stdin is a terminal, receive asks before accepting an offer.
package cli
