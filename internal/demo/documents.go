package demo

// Fragments are registered with the client once per table.
const Fragments = `
fragment UserFragment on User {
	...NameFragment
	...ZodiacFragment
}

fragment NameFragment on User {
	name
}

fragment ZodiacFragment on User {
	zodiac
}
`

// AllUsersQuery lists every user with the row fields.
const AllUsersQuery = `
query AllUsers {
	users {
		id
		...UserFragment
	}
}
`

// AllUsersNonReactiveQuery lists the same users, but edits to row fields do
// not re-render the list: each row watches its own fragment.
const AllUsersNonReactiveQuery = `
query AllUsersNonReactive {
	users {
		id
		...UserFragment @nonreactive
	}
}
`

const EditUserMutation = `
mutation EditUser($id: ID, $name: String, $zodiac: String) {
	editUser(id: $id, name: $name, zodiac: $zodiac) {
		id
		...UserFragment
	}
}
`

const AddUserMutation = `
mutation AddUser($name: String, $zodiac: String) {
	addUser(name: $name, zodiac: $zodiac) {
		id
		...UserFragment
	}
}
`
